// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package http

// indexHTML is the single-page form the control API serves at "/". Its
// contents are opaque to the gateway: a small client-side script that
// calls the JSON endpoints below and renders the result.
const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Modbus Gateway</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .container { max-width: 800px; margin: 0 auto; }
        .form-group { margin: 10px 0; }
        label { display: inline-block; width: 150px; }
        input, select, button { padding: 5px; margin: 5px; }
        button { background: #007cba; color: white; border: none; padding: 10px 20px; cursor: pointer; }
        button:hover { background: #005a87; }
        .result { margin-top: 20px; padding: 10px; background: #f0f0f0; border: 1px solid #ccc; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Modbus RTU Gateway</h1>

        <div class="form-group">
            <label>Slave ID:</label>
            <input type="number" id="slaveId" value="1" min="1" max="247">
        </div>

        <div class="form-group">
            <label>Function:</label>
            <select id="function">
                <option value="read_coils">Read Coils</option>
                <option value="read_discrete">Read Discrete Inputs</option>
                <option value="read_holding">Read Holding Registers</option>
                <option value="read_input">Read Input Registers</option>
                <option value="write_coil">Write Single Coil</option>
                <option value="write_single">Write Single Register</option>
                <option value="write_coils">Write Multiple Coils</option>
                <option value="write_multiple">Write Multiple Registers</option>
            </select>
        </div>

        <div class="form-group">
            <label>Start Address:</label>
            <input type="number" id="startAddr" value="0" min="0" max="65535">
        </div>

        <div class="form-group" id="countGroup">
            <label>Count:</label>
            <input type="number" id="count" value="1" min="1" max="125">
        </div>

        <div class="form-group" id="valueGroup" style="display:none;">
            <label>Value:</label>
            <input type="number" id="value" value="0" min="0" max="65535">
        </div>

        <div class="form-group" id="valuesGroup" style="display:none;">
            <label>Values:</label>
            <input type="text" id="values" placeholder="1,2,3,4,5" title="Comma-separated values">
        </div>

        <div class="form-group" id="coilValueGroup" style="display:none;">
            <label>Coil Value:</label>
            <select id="coilValue">
                <option value="0">OFF (0)</option>
                <option value="1">ON (1)</option>
            </select>
        </div>

        <div class="form-group" id="coilValuesGroup" style="display:none;">
            <label>Coil Values:</label>
            <input type="text" id="coilValues" placeholder="1,0,1,0,1" title="Comma-separated boolean values (1/0, true/false, on/off)">
        </div>

        <button onclick="executeModbus()">Execute</button>

        <div class="result" id="result"></div>
    </div>

    <script>
        document.getElementById('function').addEventListener('change', function() {
            const func = this.value;
            const countGroup = document.getElementById('countGroup');
            const valueGroup = document.getElementById('valueGroup');
            const valuesGroup = document.getElementById('valuesGroup');
            const coilValueGroup = document.getElementById('coilValueGroup');
            const coilValuesGroup = document.getElementById('coilValuesGroup');

            countGroup.style.display = 'none';
            valueGroup.style.display = 'none';
            valuesGroup.style.display = 'none';
            coilValueGroup.style.display = 'none';
            coilValuesGroup.style.display = 'none';

            if (func === 'write_single') {
                valueGroup.style.display = 'block';
            } else if (func === 'write_multiple') {
                valuesGroup.style.display = 'block';
            } else if (func === 'write_coil') {
                coilValueGroup.style.display = 'block';
            } else if (func === 'write_coils') {
                coilValuesGroup.style.display = 'block';
            } else {
                countGroup.style.display = 'block';
            }
        });

        async function executeModbus() {
            const slaveId = document.getElementById('slaveId').value;
            const func = document.getElementById('function').value;
            const startAddr = document.getElementById('startAddr').value;
            const count = document.getElementById('count').value;
            const value = document.getElementById('value').value;
            const values = document.getElementById('values').value;
            const coilValue = document.getElementById('coilValue').value;
            const coilValues = document.getElementById('coilValues').value;

            let url = ` + "`/api/${func}?slave_id=${slaveId}&start_addr=${startAddr}`" + `;

            if (func === 'write_single') {
                url += ` + "`&value=${value}`" + `;
            } else if (func === 'write_multiple') {
                url += ` + "`&values=${encodeURIComponent(values)}`" + `;
            } else if (func === 'write_coil') {
                url += ` + "`&value=${coilValue}`" + `;
            } else if (func === 'write_coils') {
                url += ` + "`&values=${encodeURIComponent(coilValues)}`" + `;
            } else {
                url += ` + "`&count=${count}`" + `;
            }

            try {
                const response = await fetch(url);
                const result = await response.json();
                document.getElementById('result').innerHTML =
                    '<pre>' + JSON.stringify(result, null, 2) + '</pre>';
            } catch (error) {
                document.getElementById('result').innerHTML =
                    '<pre>Error: ' + error.message + '</pre>';
            }
        }
    </script>
</body>
</html>`

const notFoundHTML = `<html><body><h1>404 Not Found</h1></body></html>`
